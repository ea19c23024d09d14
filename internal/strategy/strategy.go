// Package strategy генерирует торговые сигналы по окну цен закрытия.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Signal - решение стратегии на текущем цикле
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// Strategy - чистая функция от окна цен (новые последними) к сигналу.
// При len(prices) < Period() возвращается Hold.
type Strategy interface {
	GenerateSignal(prices []float64) Signal
	Period() int
	Name() Type
}

// Type - имя варианта стратегии, как его задают в конфиге и CLI
type Type string

const (
	TypeKaufmanAMA Type = "KaufmanAMA"
	TypeMACross    Type = "MovingAverageCross"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidParams   = errors.New("invalid strategy params")
)

// Params - параметры всех вариантов; каждый вариант читает только свои поля
type Params struct {
	Period      int `mapstructure:"period" json:"period"`
	FastPeriod  int `mapstructure:"fast_period" json:"fast_period"`
	SlowPeriod  int `mapstructure:"slow_period" json:"slow_period"`
	ShortWindow int `mapstructure:"short_window" json:"short_window"`
	LongWindow  int `mapstructure:"long_window" json:"long_window"`
}

// DefaultParams возвращает значения по умолчанию для обоих вариантов
func DefaultParams() Params {
	return Params{
		Period:      10,
		FastPeriod:  2,
		SlowPeriod:  30,
		ShortWindow: 5,
		LongWindow:  20,
	}
}

type constructor func(Params) (Strategy, error)

// registry - закрытый набор вариантов
var registry = map[Type]constructor{
	TypeKaufmanAMA: func(p Params) (Strategy, error) { return NewAdaptive(p.Period, p.FastPeriod, p.SlowPeriod) },
	TypeMACross:    func(p Params) (Strategy, error) { return NewCrossover(p.ShortWindow, p.LongWindow) },
}

// New создаёт стратегию по типу
func New(t Type, p Params) (Strategy, error) {
	ctor, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, t)
	}
	return ctor(p)
}

// ParseType разбирает имя стратегии без учёта регистра
func ParseType(name string) (Type, error) {
	for t := range registry {
		if strings.EqualFold(string(t), strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q (available: %s)", ErrUnknownStrategy, name, strings.Join(Available(), ", "))
}

// Available возвращает имена зарегистрированных стратегий по алфавиту
func Available() []string {
	names := make([]string, 0, len(registry))
	for t := range registry {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

func compare(last, reference float64) Signal {
	switch {
	case last > reference:
		return Buy
	case last < reference:
		return Sell
	default:
		return Hold
	}
}
