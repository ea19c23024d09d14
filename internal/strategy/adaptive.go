package strategy

import (
	"fmt"
	"math"
)

// Adaptive - адаптивная скользящая средняя Кауфмана (KAMA).
//
// Скорость сглаживания зависит от коэффициента эффективности ER:
// на трендовом участке средняя следует за ценой с быстрой константой,
// на шумном - с медленной.
type Adaptive struct {
	period int
	fastSC float64
	slowSC float64
}

// NewAdaptive: period - длина окна, fast и slow - периоды быстрой и медленной EMA
func NewAdaptive(period, fast, slow int) (*Adaptive, error) {
	if period < 2 || fast < 1 || slow <= fast {
		return nil, fmt.Errorf("%w: kama period=%d fast=%d slow=%d", ErrInvalidParams, period, fast, slow)
	}
	return &Adaptive{
		period: period,
		fastSC: 2.0 / float64(fast+1),
		slowSC: 2.0 / float64(slow+1),
	}, nil
}

func (a *Adaptive) Name() Type  { return TypeKaufmanAMA }
func (a *Adaptive) Period() int { return a.period }

// EfficiencyRatio = |w[last]-w[0]| / sum|w[k]-w[k-1]|; 0 для неподвижного окна
func EfficiencyRatio(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	var path float64
	for k := 1; k < len(window); k++ {
		path += math.Abs(window[k] - window[k-1])
	}
	if path == 0 {
		return 0
	}
	return math.Abs(window[len(window)-1]-window[0]) / path
}

// Average считает KAMA по окну: ER пересчитывается для каждого префикса
func (a *Adaptive) Average(window []float64) float64 {
	ama := window[0]
	for i := 1; i < len(window); i++ {
		er := EfficiencyRatio(window[:i+1])
		sc := er*(a.fastSC-a.slowSC) + a.slowSC
		ama += sc * (window[i] - ama)
	}
	return ama
}

func (a *Adaptive) GenerateSignal(prices []float64) Signal {
	if len(prices) < a.period {
		return Hold
	}
	window := prices[len(prices)-a.period:]
	return compare(window[len(window)-1], a.Average(window))
}
