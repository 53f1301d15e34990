package ring_buffer

type bufImpl struct {
	buffer []int16
	head   int
	filled int
}

func New(size int) Interface {
	if size <= 0 {
		size = 1
	}

	return &bufImpl{
		buffer: make([]int16, size),
	}
}

func (r *bufImpl) Add(samples []int16) {
	// only the tail of an oversized write can survive
	if len(samples) > len(r.buffer) {
		samples = samples[len(samples)-len(r.buffer):]
	}

	for _, s := range samples {
		r.buffer[r.head] = s
		r.head = (r.head + 1) % len(r.buffer)
	}

	r.filled += len(samples)
	if r.filled > len(r.buffer) {
		r.filled = len(r.buffer)
	}
}

// Read returns the whole window oldest-first. Slots that were never
// written read as zero and come first.
func (r *bufImpl) Read() []int16 {
	samples := make([]int16, len(r.buffer))
	for i := 0; i < len(r.buffer); i++ {
		samples[i] = r.buffer[(r.head+i)%len(r.buffer)]
	}
	return samples
}

func (r *bufImpl) Filled() int {
	return r.filled
}

func (r *bufImpl) Size() int {
	return len(r.buffer)
}

func (r *bufImpl) Clear() {
	for i := 0; i < len(r.buffer); i++ {
		r.buffer[i] = 0
	}

	r.head = 0
	r.filled = 0
}
