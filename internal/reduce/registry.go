package reduce

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Kind names a reduction operation.
type Kind int

// Supported reduction kinds.
const (
	KindSum Kind = iota
	KindMean
	KindProduct
	KindMax
	KindMin
	KindArgMax
	KindArgMin
)

var kindNames = [...]string{
	KindSum:     "sum",
	KindMean:    "mean",
	KindProduct: "prod",
	KindMax:     "max",
	KindMin:     "min",
	KindArgMax:  "argmax",
	KindArgMin:  "argmin",
}

// Kinds lists all reduction kinds.
func Kinds() []Kind {
	return []Kind{KindSum, KindMean, KindProduct, KindMax, KindMin, KindArgMax, KindArgMin}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind parses an operation name such as "argmax" or "sum".
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "product" {
		return KindProduct, nil
	}
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOperation, "%q", s)
}

// IsIndex reports whether the kind produces indices into the reduced
// dimension rather than element values.
func (k Kind) IsIndex() bool {
	return k == KindArgMax || k == KindArgMin
}

// OutputDType returns the default output type for reducing elements of
// type in: Int64 for index kinds, the input type otherwise.
func (k Kind) OutputDType(in tensor.DataType) tensor.DataType {
	if k.IsIndex() {
		return tensor.Int64
	}
	return in
}

// Strategy names a scheduling algorithm.
type Strategy int

const (
	// StrategyNaive runs one worker per output position across goroutines.
	StrategyNaive Strategy = iota
	// StrategySerial runs the same workers on the calling goroutine.
	StrategySerial
)

func (s Strategy) String() string {
	switch s {
	case StrategyNaive:
		return "naive"
	case StrategySerial:
		return "serial"
	default:
		return "unknown"
	}
}

// ParseStrategy parses "naive" or "serial".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "naive":
		return StrategyNaive, nil
	case "serial":
		return StrategySerial, nil
	}
	return 0, errors.Wrapf(ErrUnknownStrategy, "%q", s)
}

// Run dispatches one reduction of op under strategy s.
func Run[E, O tensor.Numeric, A any, P Operation[E, A]](
	ctx context.Context, s Strategy, op P, in tensor.View[E], out tensor.View[O], dim int, l *Launcher,
) error {
	switch s {
	case StrategyNaive:
		return Naive[E, O, A](ctx, op, in, out, dim, l)
	case StrategySerial:
		return Serial[E, O, A](ctx, op, in, out, dim)
	}
	return errors.Wrapf(ErrUnknownStrategy, "%d", int(s))
}

// Kernel is a reduction bound to an operation, a strategy and concrete
// input and output element types.
type Kernel[E, O tensor.Numeric] func(ctx context.Context, in tensor.View[E], out tensor.View[O], dim int) error

// Bind instantiates kind k for elements E and outputs O under strategy s.
// This is the only place that maps a runtime Kind to a generic operation.
func Bind[E, O tensor.Numeric](k Kind, s Strategy, l *Launcher) (Kernel[E, O], error) {
	if s != StrategyNaive && s != StrategySerial {
		return nil, errors.Wrapf(ErrUnknownStrategy, "%d", int(s))
	}
	switch k {
	case KindSum:
		return bind[E, O, E](s, Sum[E]{}, l), nil
	case KindMean:
		return bind[E, O, E](s, Mean[E]{}, l), nil
	case KindProduct:
		return bind[E, O, E](s, Product[E]{}, l), nil
	case KindMax:
		return bind[E, O, E](s, Max[E]{}, l), nil
	case KindMin:
		return bind[E, O, E](s, Min[E]{}, l), nil
	case KindArgMax:
		return bind[E, O, ArgAccumulator[E]](s, ArgMax[E]{}, l), nil
	case KindArgMin:
		return bind[E, O, ArgAccumulator[E]](s, ArgMin[E]{}, l), nil
	}
	return nil, errors.Wrapf(ErrUnknownOperation, "kind %d", int(k))
}

func bind[E, O tensor.Numeric, A any, P Operation[E, A]](s Strategy, op P, l *Launcher) Kernel[E, O] {
	return func(ctx context.Context, in tensor.View[E], out tensor.View[O], dim int) error {
		return Run[E, O, A](ctx, s, op, in, out, dim, l)
	}
}
