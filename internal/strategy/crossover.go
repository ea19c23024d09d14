package strategy

import (
	"fmt"

	"alphawave/pkg/utils"
)

// Crossover - пересечение короткой и длинной простых средних
type Crossover struct {
	short int
	long  int
}

func NewCrossover(short, long int) (*Crossover, error) {
	if short < 1 || long <= short {
		return nil, fmt.Errorf("%w: ma cross short=%d long=%d", ErrInvalidParams, short, long)
	}
	return &Crossover{short: short, long: long}, nil
}

func (c *Crossover) Name() Type  { return TypeMACross }
func (c *Crossover) Period() int { return c.long }

func (c *Crossover) GenerateSignal(prices []float64) Signal {
	if len(prices) < c.long {
		return Hold
	}
	shortMA := utils.Mean(prices[len(prices)-c.short:])
	longMA := utils.Mean(prices[len(prices)-c.long:])
	return compare(shortMA, longMA)
}
