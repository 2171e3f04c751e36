// Package setup orchestrates per-device bring-up for a registered batch.
//
// Each device walks the state machine pending → connecting → discovering →
// subscribing → ready, or drops to failed once the whole-device retry
// budget is spent. The queue is processed strictly sequentially to respect
// the shared wireless medium, with a pacing delay between devices. A run
// can be paused externally (for example while a device is being forcibly
// removed) and resumed from the next unresolved queue position.
package setup
