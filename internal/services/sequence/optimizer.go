package sequence

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// adam is a plain Adam optimizer with decoupled L2 on weight matrices.
type adam struct {
	lr, beta1, beta2, eps float64
	l2                    float64
	clip                  float64
	t                     int
	m, v                  *params
}

func newAdam(shape *params, lr, l2 float64) *adam {
	return &adam{
		lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8,
		l2:   l2,
		clip: 5,
		m:    zeroParams(shape.input, shape.hidden, shape.latent),
		v:    zeroParams(shape.input, shape.hidden, shape.latent),
	}
}

// step applies averaged gradients g (accumulated over batch samples) to p.
func (a *adam) step(p, g *params, batch int) {
	scale := 1 / float64(batch)
	grads := g.list()
	for _, m := range grads {
		m.Scale(scale, m)
	}
	if norm := globalNorm(grads); norm > a.clip {
		for _, m := range grads {
			m.Scale(a.clip/norm, m)
		}
	}

	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	ms, vs := a.m.list(), a.v.list()
	for i, w := range p.list() {
		wd := w.RawMatrix().Data
		gd := grads[i].RawMatrix().Data
		md := ms[i].RawMatrix().Data
		vd := vs[i].RawMatrix().Data
		for j := range wd {
			gj := gd[j]
			if isWeight[i] {
				gj += a.l2 * wd[j]
			}
			md[j] = a.beta1*md[j] + (1-a.beta1)*gj
			vd[j] = a.beta2*vd[j] + (1-a.beta2)*gj*gj
			wd[j] -= a.lr * (md[j] / c1) / (math.Sqrt(vd[j]/c2) + a.eps)
		}
	}
}

func globalNorm(ms []*mat.Dense) float64 {
	s := 0.0
	for _, m := range ms {
		for _, v := range m.RawMatrix().Data {
			s += v * v
		}
	}
	return math.Sqrt(s)
}
