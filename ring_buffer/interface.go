package ring_buffer

// Interface is a fixed-size window over the most recent int16 samples.
type Interface interface {
	Add(samples []int16)
	Read() []int16
	Filled() int
	Size() int
	Clear()
}
