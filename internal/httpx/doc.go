package httpx

// Package httpx provides the HTTP client used by the transfer engine and the
// direct resolver: HEAD metadata probes, range-aware streaming GETs with
// per-descriptor headers, and retry with exponential backoff and jitter.
