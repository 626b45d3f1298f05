package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

func TestBuildTensor(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)
	backend := device.NewCPUBackend(1)

	in, err := backend.NewTensor(tensor.Int16, tensor.Shape{2, 3}, []int16{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	t.Run("Dense tensor", func(t *testing.T) {
		rb, err := builder.BuildTensor(in, nil)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(6), rb.NumRows())
		assert.Equal(t, int64(1), rb.NumCols())
		assert.Equal(t, ValuesColumn, rb.ColumnName(0))
		assert.Equal(t, []int16{1, 2, 3, 4, 5, 6}, rb.Column(0).(*array.Int16).Int16Values())

		md := rb.Schema().Metadata()
		v, ok := metaValue(md, MetaShape)
		assert.True(t, ok)
		assert.Equal(t, "2x3", v)
		v, _ = metaValue(md, MetaDType)
		assert.Equal(t, "int16", v)
	})

	t.Run("Strided tensor is compacted", func(t *testing.T) {
		rb, err := builder.BuildTensor(in.Transpose(0, 1), nil)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, []int16{1, 4, 2, 5, 3, 6}, rb.Column(0).(*array.Int16).Int16Values())
		v, _ := metaValue(rb.Schema().Metadata(), MetaShape)
		assert.Equal(t, "3x2", v)
	})

	t.Run("Float16 round trip", func(t *testing.T) {
		half := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2), float16.Inf(1)}
		h, err := backend.NewTensor(tensor.Float16, tensor.Shape{3}, half)
		require.NoError(t, err)

		rb, err := builder.BuildTensor(h, nil)
		require.NoError(t, err)
		defer rb.Release()
		assert.Equal(t, arrow.FLOAT16, rb.Column(0).DataType().ID())
		assert.Equal(t, float32(1.5), rb.Column(0).(*array.Float16).Value(0).Float32())

		back, err := ReadTensor(backend, rb)
		require.NoError(t, err)
		assert.Equal(t, half, back.Data())
	})
}

func TestReadRequest(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)
	backend := device.NewCPUBackend(1)

	in, err := backend.NewTensor(tensor.Float64, tensor.Shape{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)

	rb, err := builder.BuildRequest(engine.Request{Op: reduce.KindArgMin, Dim: 1, OutDType: tensor.Int32, Input: in})
	require.NoError(t, err)
	defer rb.Release()

	req, err := ReadRequest(backend, rb)
	require.NoError(t, err)
	assert.Equal(t, reduce.KindArgMin, req.Op)
	assert.Equal(t, 1, req.Dim)
	assert.Equal(t, tensor.Int32, req.OutDType)
	assert.Equal(t, tensor.Shape{2, 2}, req.Input.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4}, req.Input.Data())

	t.Run("Default output type is omitted", func(t *testing.T) {
		rb, err := builder.BuildRequest(engine.Request{Op: reduce.KindSum, Dim: 0, Input: in})
		require.NoError(t, err)
		defer rb.Release()
		req, err := ReadRequest(backend, rb)
		require.NoError(t, err)
		assert.Equal(t, tensor.Invalid, req.OutDType)
	})

	t.Run("Missing input", func(t *testing.T) {
		_, err := builder.BuildRequest(engine.Request{Op: reduce.KindSum})
		assert.ErrorIs(t, err, ErrBadRecord)
	})
}

func TestReadTensor_Malformed(t *testing.T) {
	pool := memory.NewGoAllocator()
	backend := device.NewCPUBackend(1)

	build := func(md map[string]string, values []float32) arrow.RecordBatch {
		b := array.NewFloat32Builder(pool)
		defer b.Release()
		b.AppendValues(values, nil)
		col := b.NewArray()
		defer col.Release()
		var keys, vals []string
		for k, v := range md {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		meta := arrow.NewMetadata(keys, vals)
		schema := arrow.NewSchema([]arrow.Field{{Name: ValuesColumn, Type: arrow.PrimitiveTypes.Float32}}, &meta)
		return array.NewRecordBatch(schema, []arrow.Array{col}, int64(len(values)))
	}

	cases := []struct {
		name string
		md   map[string]string
	}{
		{"missing shape", map[string]string{MetaDType: "float32"}},
		{"bad shape", map[string]string{MetaShape: "2xq"}},
		{"row count mismatch", map[string]string{MetaShape: "3x3"}},
		{"dtype mismatch", map[string]string{MetaShape: "2", MetaDType: "int32"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rb := build(tc.md, []float32{1, 2})
			defer rb.Release()
			_, err := ReadTensor(backend, rb)
			assert.ErrorIs(t, err, ErrBadRecord)
		})
	}

	t.Run("missing op", func(t *testing.T) {
		rb := build(map[string]string{MetaShape: "2"}, []float32{1, 2})
		defer rb.Release()
		_, err := ReadRequest(backend, rb)
		assert.ErrorIs(t, err, ErrBadRecord)
	})

	t.Run("unknown op", func(t *testing.T) {
		rb := build(map[string]string{MetaShape: "2", MetaOp: "median", MetaDim: "0"}, []float32{1, 2})
		defer rb.Release()
		_, err := ReadRequest(backend, rb)
		assert.ErrorIs(t, err, reduce.ErrUnknownOperation)
	})
}
