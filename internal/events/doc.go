package events

// Package events decouples the scheduler and transfer workers from observers.
// Publishing never blocks: each subscriber owns a bounded queue where stale
// progress events are dropped oldest-first while status transitions are always
// delivered in order. The most recent progress snapshot per job stays
// available on demand.
