package mcp

import "github.com/mark3labs/mcp-go/mcp"

var videoListToolDef = mcp.NewTool("video_list",
	mcp.WithDescription("List the stored .mp4 videos that can be analyzed."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var videoFetchURLToolDef = mcp.NewTool("video_fetch_url",
	mcp.WithDescription("Download a video over HTTP(S) and store it under the last segment of the URL path. "+
		"An existing video with the same name is replaced."),
	mcp.WithString("url",
		mcp.Required(),
		mcp.Description("http or https URL of the video"),
	),
	mcp.WithOpenWorldHintAnnotation(true),
)

var videoAnalyzeToolDef = mcp.NewTool("video_analyze",
	mcp.WithDescription("Label a stored four-camera robot arm video. Frames are sampled every 0.5 s, "+
		"grouped ten at a time, and each group is labeled with the running summary of earlier groups. "+
		"Returns the final time-stamped action list. Runs to completion before returning, which can take minutes."),
	mcp.WithString("filename",
		mcp.Required(),
		mcp.Description("Stored video name, as returned by video_list"),
	),
	mcp.WithBoolean("resume",
		mcp.Description("Continue the latest failed analysis of this video from its last completed group"),
	),
	mcp.WithOpenWorldHintAnnotation(true),
)

var analysisFetchToolDef = mcp.NewTool("analysis_fetch",
	mcp.WithDescription("Fetch one analysis by id, including its result text."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Analysis id (ULID)"),
	),
	mcp.WithBoolean("include_checkpoints",
		mcp.Description("Include the context stored after each labeled group"),
	),
	mcp.WithString("format",
		mcp.Description("json (default) or markdown for a rendered report"),
		mcp.Enum("json", "markdown"),
	),
	mcp.WithReadOnlyHintAnnotation(true),
)

var analysisListToolDef = mcp.NewTool("analysis_list",
	mcp.WithDescription("List analyses newest first, optionally filtered by video or status."),
	mcp.WithString("video",
		mcp.Description("Only analyses of this video"),
	),
	mcp.WithString("status",
		mcp.Description("running, completed or failed"),
		mcp.Enum("running", "completed", "failed"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip"),
	),
	mcp.WithReadOnlyHintAnnotation(true),
)
