package stream

// Pair owns the two accumulators of one logical bidirectional stream.
// in carries data from the network to the application and out carries
// data from the application to the network.
//
// A Pair is created once and shared by pointer. Views borrow its
// accumulators and must not outlive it.
type Pair struct {
	in  Accumulator
	out Accumulator
}

// NewPair returns an empty Pair.
func NewPair() *Pair {
	return &Pair{}
}

// View returns the engine-side view: it writes into the inbound
// accumulator and reads from the outbound one.
func (p *Pair) View() View {
	return View{
		w: Writer{acc: &p.in},
		r: Reader{acc: &p.out},
	}
}

// Reversed returns the application-side view: it writes into the outbound
// accumulator and reads what the engine side wrote into the inbound one.
func (p *Pair) Reversed() View {
	return View{
		w: Writer{acc: &p.out},
		r: Reader{acc: &p.in},
	}
}
