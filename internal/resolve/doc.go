package resolve

// Package resolve turns source URLs into fetchable media variants. Platform
// support is a registry of resolvers matched by domain pattern; the yt-dlp
// backed resolver covers the major media platforms and a direct HTTP resolver
// handles plain file URLs.
