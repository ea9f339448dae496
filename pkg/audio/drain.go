package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to keep a producer from blocking on a stream nobody consumes any
// more, such as the event channel of an orphaned remote session.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
