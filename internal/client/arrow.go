package client

import (
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowf16 "github.com/apache/arrow-go/v18/arrow/float16"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

// Schema metadata keys. A tensor travels as a single "values" column in
// row-major order; its shape and element type ride in the schema metadata.
const (
	ValuesColumn = "values"
	MetaShape    = "shape"
	MetaDType    = "dtype"
	MetaOp       = "op"
	MetaDim      = "dim"
	MetaOutDType = "out_dtype"
)

// ErrBadRecord is returned for records that do not describe a tensor.
var ErrBadRecord = errors.New("malformed tensor record")

// ArrowType maps an element type to its Arrow type.
func ArrowType(dt tensor.DataType) (arrow.DataType, error) {
	switch dt {
	case tensor.Float16:
		return arrow.FixedWidthTypes.Float16, nil
	case tensor.Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case tensor.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case tensor.Int8:
		return arrow.PrimitiveTypes.Int8, nil
	case tensor.Int16:
		return arrow.PrimitiveTypes.Int16, nil
	case tensor.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case tensor.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case tensor.Uint8:
		return arrow.PrimitiveTypes.Uint8, nil
	case tensor.Uint16:
		return arrow.PrimitiveTypes.Uint16, nil
	case tensor.Uint32:
		return arrow.PrimitiveTypes.Uint32, nil
	case tensor.Uint64:
		return arrow.PrimitiveTypes.Uint64, nil
	}
	return nil, errors.Wrapf(reduce.ErrUnsupportedDType, "%s", dt)
}

// FormatShape renders a shape for record metadata, e.g. "2x3x4".
func FormatShape(s tensor.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}

// RecordBatchBuilder creates Arrow RecordBatches from tensors and requests.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildTensor converts a tensor into a single-column RecordBatch. Strided
// tensors are compacted first. extra is merged into the schema metadata.
func (b *RecordBatchBuilder) BuildTensor(t device.Tensor, extra map[string]string) (arrow.RecordBatch, error) {
	typ, err := ArrowType(t.DType())
	if err != nil {
		return nil, err
	}
	raw := device.RawBytes(t.Contiguous())
	n := t.Len()

	buf := memory.NewResizableBuffer(b.mem)
	buf.Resize(len(raw))
	copy(buf.Bytes(), raw)
	data := array.NewData(typ, n, []*memory.Buffer{nil, buf}, nil, 0, 0)
	buf.Release()
	col := array.MakeFromData(data)
	data.Release()
	defer col.Release()

	keys := []string{MetaShape, MetaDType}
	values := []string{FormatShape(t.Shape()), t.DType().String()}
	for k, v := range extra {
		keys = append(keys, k)
		values = append(values, v)
	}
	md := arrow.NewMetadata(keys, values)
	schema := arrow.NewSchema([]arrow.Field{{Name: ValuesColumn, Type: typ}}, &md)
	return array.NewRecordBatch(schema, []arrow.Array{col}, int64(n)), nil
}

// BuildRequest encodes a reduction request: the input tensor plus the
// operation header in the schema metadata.
func (b *RecordBatchBuilder) BuildRequest(req engine.Request) (arrow.RecordBatch, error) {
	if req.Input == nil {
		return nil, errors.Wrap(ErrBadRecord, "request has no input")
	}
	extra := map[string]string{
		MetaOp:  req.Op.String(),
		MetaDim: strconv.Itoa(req.Dim),
	}
	if req.OutDType != tensor.Invalid {
		extra[MetaOutDType] = req.OutDType.String()
	}
	return b.BuildTensor(req.Input, extra)
}

func metaValue(md arrow.Metadata, key string) (string, bool) {
	i := md.FindKey(key)
	if i < 0 {
		return "", false
	}
	return md.Values()[i], true
}

// ReadTensor decodes a record produced by BuildTensor into a new tensor on
// backend. The record is not retained.
func ReadTensor(backend device.Backend, rec arrow.RecordBatch) (device.Tensor, error) {
	if rec.NumCols() != 1 || rec.ColumnName(0) != ValuesColumn {
		return nil, errors.Wrapf(ErrBadRecord, "expected one %q column", ValuesColumn)
	}
	md := rec.Schema().Metadata()
	shapeStr, ok := metaValue(md, MetaShape)
	if !ok {
		return nil, errors.Wrap(ErrBadRecord, "missing shape")
	}
	shape, err := tensor.ParseShape(shapeStr)
	if err != nil {
		return nil, errors.Wrap(ErrBadRecord, err.Error())
	}
	if int64(shape.NumElements()) != rec.NumRows() {
		return nil, errors.Wrapf(ErrBadRecord, "shape %s does not hold %d rows", shape, rec.NumRows())
	}

	col := rec.Column(0)
	if col.NullN() > 0 {
		return nil, errors.Wrap(ErrBadRecord, "null values")
	}
	var (
		dtype tensor.DataType
		data  any
	)
	switch a := col.(type) {
	case *array.Float16:
		half := make([]float16.Float16, a.Len())
		for i, v := range a.Values() {
			half[i] = float16Bits(v)
		}
		dtype, data = tensor.Float16, half
	case *array.Float32:
		dtype, data = tensor.Float32, a.Float32Values()
	case *array.Float64:
		dtype, data = tensor.Float64, a.Float64Values()
	case *array.Int8:
		dtype, data = tensor.Int8, a.Int8Values()
	case *array.Int16:
		dtype, data = tensor.Int16, a.Int16Values()
	case *array.Int32:
		dtype, data = tensor.Int32, a.Int32Values()
	case *array.Int64:
		dtype, data = tensor.Int64, a.Int64Values()
	case *array.Uint8:
		dtype, data = tensor.Uint8, a.Uint8Values()
	case *array.Uint16:
		dtype, data = tensor.Uint16, a.Uint16Values()
	case *array.Uint32:
		dtype, data = tensor.Uint32, a.Uint32Values()
	case *array.Uint64:
		dtype, data = tensor.Uint64, a.Uint64Values()
	default:
		return nil, errors.Wrapf(reduce.ErrUnsupportedDType, "arrow %s", col.DataType())
	}
	if name, ok := metaValue(md, MetaDType); ok && name != dtype.String() {
		return nil, errors.Wrapf(ErrBadRecord, "dtype %q does not match column type %s", name, col.DataType())
	}
	return backend.NewTensor(dtype, shape, data)
}

// ReadRequest decodes a record produced by BuildRequest.
func ReadRequest(backend device.Backend, rec arrow.RecordBatch) (engine.Request, error) {
	md := rec.Schema().Metadata()
	opName, ok := metaValue(md, MetaOp)
	if !ok {
		return engine.Request{}, errors.Wrap(ErrBadRecord, "missing op")
	}
	op, err := reduce.ParseKind(opName)
	if err != nil {
		return engine.Request{}, err
	}
	dimStr, ok := metaValue(md, MetaDim)
	if !ok {
		return engine.Request{}, errors.Wrap(ErrBadRecord, "missing dim")
	}
	dim, err := strconv.Atoi(dimStr)
	if err != nil {
		return engine.Request{}, errors.Wrapf(reduce.ErrInvalidDimension, "%q", dimStr)
	}
	out := tensor.Invalid
	if name, ok := metaValue(md, MetaOutDType); ok {
		if out, err = tensor.ParseDataType(name); err != nil {
			return engine.Request{}, err
		}
	}
	in, err := ReadTensor(backend, rec)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.Request{Op: op, Dim: dim, OutDType: out, Input: in}, nil
}

// float16Bits converts an Arrow half-precision value to the engine's type.
func float16Bits(v arrowf16.Num) float16.Float16 {
	return float16.Frombits(v.Uint16())
}
