// Package prefetch runs background cache warm-up. Jobs wait in a bounded
// queue, with user navigation ahead of sequential lookahead, and a pool of
// workers feeds them to the orchestrator.
package prefetch
