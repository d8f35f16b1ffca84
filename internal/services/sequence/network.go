package sequence

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

const (
	numClasses = 3
	classUp    = 0
	classDown  = 1
	classSide  = 2

	logVarMin = -8.0
	logVarMax = 8.0
)

// params holds every trainable matrix. Biases are single-column matrices so
// the optimizer can treat all parameters alike.
type params struct {
	Wx, Wh, Bh *mat.Dense // recurrent encoder
	Wmu, Bmu   *mat.Dense // latent mean head
	Wlv, Blv   *mat.Dense // latent log-variance head
	Wo, Bo     *mat.Dense // output over [hidden; latent]
	input      int
	hidden     int
	latent     int
}

func newParams(input, hidden, latent int, rng *rand.Rand) *params {
	p := zeroParams(input, hidden, latent)
	xavier(p.Wx, rng)
	xavier(p.Wh, rng)
	xavier(p.Wmu, rng)
	xavier(p.Wlv, rng)
	xavier(p.Wo, rng)
	// start with a near-unit variance so the KL term is small
	for i := range p.Wlv.RawMatrix().Data {
		p.Wlv.RawMatrix().Data[i] *= 0.1
	}
	return p
}

func zeroParams(input, hidden, latent int) *params {
	return &params{
		Wx:     mat.NewDense(hidden, input, nil),
		Wh:     mat.NewDense(hidden, hidden, nil),
		Bh:     mat.NewDense(hidden, 1, nil),
		Wmu:    mat.NewDense(latent, hidden, nil),
		Bmu:    mat.NewDense(latent, 1, nil),
		Wlv:    mat.NewDense(latent, hidden, nil),
		Blv:    mat.NewDense(latent, 1, nil),
		Wo:     mat.NewDense(numClasses, hidden+latent, nil),
		Bo:     mat.NewDense(numClasses, 1, nil),
		input:  input,
		hidden: hidden,
		latent: latent,
	}
}

func xavier(m *mat.Dense, rng *rand.Rand) {
	r, c := m.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
}

// list returns parameters in a fixed order; isWeight marks the ones L2 applies to.
func (p *params) list() []*mat.Dense {
	return []*mat.Dense{p.Wx, p.Wh, p.Bh, p.Wmu, p.Bmu, p.Wlv, p.Blv, p.Wo, p.Bo}
}

var isWeight = []bool{true, true, false, true, false, true, false, true, false}

func (p *params) zero() {
	for _, m := range p.list() {
		m.Zero()
	}
}

func (p *params) clone() *params {
	out := zeroParams(p.input, p.hidden, p.latent)
	dst := out.list()
	for i, m := range p.list() {
		dst[i].Copy(m)
	}
	return out
}

func col(m *mat.Dense) mat.Vector { return m.ColView(0) }

func addToCol(m *mat.Dense, v *mat.VecDense) {
	data := m.RawMatrix().Data
	for i := range data {
		data[i] += v.AtVec(i)
	}
}

// pass records one forward evaluation for backpropagation.
type pass struct {
	xs      []*mat.VecDense
	hs      []*mat.VecDense // hs[0] is the zero state, hs[t+1] follows xs[t]
	mask    *mat.VecDense   // nil at inference
	hd      *mat.VecDense   // final hidden after dropout
	mu, lv  *mat.VecDense
	eps     []float64
	clamped []bool
	u       *mat.VecDense // [hd; z]
	probs   []float64
}

// forward runs the recurrent encoder, samples the latent with the
// reparameterization mean + exp(0.5*logVar)*eps and applies the softmax head.
func (p *params) forward(xs []*mat.VecDense, mask *mat.VecDense, eps []float64) *pass {
	ps := &pass{xs: xs, mask: mask, eps: eps}
	h := mat.NewVecDense(p.hidden, nil)
	ps.hs = append(ps.hs, h)
	for _, x := range xs {
		a := mat.NewVecDense(p.hidden, nil)
		a.MulVec(p.Wx, x)
		var rec mat.VecDense
		rec.MulVec(p.Wh, h)
		a.AddVec(a, &rec)
		a.AddVec(a, col(p.Bh))
		raw := a.RawVector().Data
		for i := range raw {
			raw[i] = math.Tanh(raw[i])
		}
		h = a
		ps.hs = append(ps.hs, h)
	}

	ps.hd = mat.VecDenseCopyOf(h)
	if mask != nil {
		ps.hd.MulElemVec(ps.hd, mask)
	}

	ps.mu = mat.NewVecDense(p.latent, nil)
	ps.mu.MulVec(p.Wmu, ps.hd)
	ps.mu.AddVec(ps.mu, col(p.Bmu))
	ps.lv = mat.NewVecDense(p.latent, nil)
	ps.lv.MulVec(p.Wlv, ps.hd)
	ps.lv.AddVec(ps.lv, col(p.Blv))

	ps.clamped = make([]bool, p.latent)
	u := make([]float64, p.hidden+p.latent)
	copy(u, ps.hd.RawVector().Data)
	for i := 0; i < p.latent; i++ {
		lv := ps.lv.AtVec(i)
		if lv < logVarMin || lv > logVarMax {
			lv = math.Max(logVarMin, math.Min(logVarMax, lv))
			ps.lv.SetVec(i, lv)
			ps.clamped[i] = true
		}
		u[p.hidden+i] = ps.mu.AtVec(i) + math.Exp(0.5*lv)*eps[i]
	}
	ps.u = mat.NewVecDense(len(u), u)

	logits := mat.NewVecDense(numClasses, nil)
	logits.MulVec(p.Wo, ps.u)
	logits.AddVec(logits, col(p.Bo))
	ps.probs = softmax(logits.RawVector().Data)
	return ps
}

// backward accumulates gradients of cross-entropy + klWeight*KL into g and returns the loss.
func (p *params) backward(ps *pass, label int, klWeight float64, g *params) float64 {
	dl := make([]float64, numClasses)
	copy(dl, ps.probs)
	dl[label] -= 1
	dlogits := mat.NewVecDense(numClasses, dl)
	g.Wo.RankOne(g.Wo, 1, dlogits, ps.u)
	addToCol(g.Bo, dlogits)

	var du mat.VecDense
	du.MulVec(p.Wo.T(), dlogits)
	dhd := mat.NewVecDense(p.hidden, nil)
	for i := 0; i < p.hidden; i++ {
		dhd.SetVec(i, du.AtVec(i))
	}

	dmu := mat.NewVecDense(p.latent, nil)
	dlv := mat.NewVecDense(p.latent, nil)
	for i := 0; i < p.latent; i++ {
		dz := du.AtVec(p.hidden + i)
		mu, lv := ps.mu.AtVec(i), ps.lv.AtVec(i)
		dmu.SetVec(i, dz+klWeight*mu)
		if ps.clamped[i] {
			continue
		}
		dlv.SetVec(i, dz*ps.eps[i]*0.5*math.Exp(0.5*lv)+klWeight*0.5*(math.Exp(lv)-1))
	}
	g.Wmu.RankOne(g.Wmu, 1, dmu, ps.hd)
	addToCol(g.Bmu, dmu)
	g.Wlv.RankOne(g.Wlv, 1, dlv, ps.hd)
	addToCol(g.Blv, dlv)

	var back mat.VecDense
	back.MulVec(p.Wmu.T(), dmu)
	dhd.AddVec(dhd, &back)
	back.MulVec(p.Wlv.T(), dlv)
	dhd.AddVec(dhd, &back)
	if ps.mask != nil {
		dhd.MulElemVec(dhd, ps.mask)
	}

	dh := dhd
	for t := len(ps.xs) - 1; t >= 0; t-- {
		hNext, hPrev := ps.hs[t+1], ps.hs[t]
		da := mat.NewVecDense(p.hidden, nil)
		for i := 0; i < p.hidden; i++ {
			h := hNext.AtVec(i)
			da.SetVec(i, dh.AtVec(i)*(1-h*h))
		}
		g.Wx.RankOne(g.Wx, 1, da, ps.xs[t])
		g.Wh.RankOne(g.Wh, 1, da, hPrev)
		addToCol(g.Bh, da)
		next := mat.NewVecDense(p.hidden, nil)
		next.MulVec(p.Wh.T(), da)
		dh = next
	}

	return -math.Log(ps.probs[label]+1e-12) + klWeight*klDivergence(ps.mu, ps.lv)
}

// klDivergence is KL(N(mu, exp(lv)) || N(0, 1)) = -0.5 * Σ(1 + lv - mu² - exp(lv)).
func klDivergence(mu, lv *mat.VecDense) float64 {
	s := 0.0
	for i := 0; i < mu.Len(); i++ {
		m, l := mu.AtVec(i), lv.AtVec(i)
		s += 1 + l - m*m - math.Exp(l)
	}
	return -0.5 * s
}

// uncertainty is the mean latent variance.
func uncertainty(lv *mat.VecDense) float64 {
	if lv.Len() == 0 {
		return 1
	}
	s := 0.0
	for i := 0; i < lv.Len(); i++ {
		s += math.Exp(lv.AtVec(i))
	}
	return s / float64(lv.Len())
}

func softmax(logits []float64) []float64 {
	mx := math.Inf(-1)
	for _, v := range logits {
		mx = math.Max(mx, v)
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - mx)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func entropy(probs []float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// dropoutMask draws an inverted-dropout mask: kept units are scaled by 1/(1-rate).
func dropoutMask(n int, rate float64, rng *rand.Rand) *mat.VecDense {
	m := mat.NewVecDense(n, nil)
	keep := 1 - rate
	for i := 0; i < n; i++ {
		if rng.Float64() < keep {
			m.SetVec(i, 1/keep)
		}
	}
	return m
}
