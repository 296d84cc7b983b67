// ABOUTME: Embeds the chat page template and static assets using go:embed
// ABOUTME: Provides templateFS and staticFS for serving the web UI from the binary

package webui

import "embed"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS
