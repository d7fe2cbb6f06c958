package stream

import "io"

var _ io.Writer = Writer{}

// Writer is a write-only handle on one accumulator.
type Writer struct {
	acc *Accumulator
}

// Append appends p. See Accumulator.Append.
func (w Writer) Append(p []byte) {
	w.acc.Append(p)
}

// Write appends p and always reports the full length as written.
func (w Writer) Write(p []byte) (int, error) {
	w.acc.Append(p)
	return len(p), nil
}

// Len returns the number of bytes appended but not yet consumed.
func (w Writer) Len() int {
	return w.acc.Len()
}

// Reader is a read-only handle on one accumulator.
type Reader struct {
	acc *Accumulator
}

// Consume fills p from the head. See Accumulator.Consume.
func (r Reader) Consume(p []byte) error {
	return r.acc.Consume(p)
}

// Drop discards n bytes from the head. See Accumulator.Drop.
func (r Reader) Drop(n int) error {
	return r.acc.Drop(n)
}

// Peek returns the exposed bytes. See Accumulator.Peek.
func (r Reader) Peek() []byte {
	return r.acc.Peek()
}

// Drain hands the exposed bytes to fn. See Accumulator.Drain.
func (r Reader) Drain(fn func(p []byte) (int, error)) (int, error) {
	return r.acc.Drain(fn)
}

// Len returns the number of bytes available to consume.
func (r Reader) Len() int {
	return r.acc.Len()
}

// View is a bidirectional handle on a Pair: it writes into one accumulator
// and reads from the other.
type View struct {
	w Writer
	r Reader
}

// Writer returns the write-only half of the view.
func (v View) Writer() Writer {
	return v.w
}

// Reader returns the read-only half of the view.
func (v View) Reader() Reader {
	return v.r
}

// Reversed returns a view over the same accumulators with the roles swapped.
func (v View) Reversed() View {
	return View{
		w: Writer{acc: v.r.acc},
		r: Reader{acc: v.w.acc},
	}
}

func (v View) Append(p []byte) {
	v.w.Append(p)
}

func (v View) Write(p []byte) (int, error) {
	return v.w.Write(p)
}

func (v View) Consume(p []byte) error {
	return v.r.Consume(p)
}

func (v View) Drop(n int) error {
	return v.r.Drop(n)
}

// Valid reports whether the view is bound to a Pair.
func (v View) Valid() bool {
	return v.w.acc != nil && v.r.acc != nil
}
