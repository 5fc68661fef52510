package sensors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/protocol"
	"habitat/internal/registry"
)

func TestASCIINumbers(t *testing.T) {
	v, err := ASCIIInt("123")
	require.NoError(t, err)
	assert.Equal(t, 123, v)

	v, err = ASCIIInt("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ASCIIInt("12.5")
	assert.Error(t, err)

	v, err = ASCIIFloat("-35.1032")
	require.NoError(t, err)
	assert.Equal(t, -35.1032, v)

	v, err = ASCIIFloat("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ASCIIFloat("NaN")
	assert.Error(t, err)
	_, err = ASCIIFloat("-Inf")
	assert.Error(t, err)
	_, err = ASCIIFloat("hab")
	assert.Error(t, err)

	v, err = String("hab")
	require.NoError(t, err)
	assert.Equal(t, "hab", v)
}

func TestTime(t *testing.T) {
	valid := []struct {
		in   string
		want map[string]interface{}
	}{
		{"12:00:00", map[string]interface{}{"hour": 12, "minute": 0, "second": 0}},
		{"11:15:10", map[string]interface{}{"hour": 11, "minute": 15, "second": 10}},
		{"00:00:00", map[string]interface{}{"hour": 0, "minute": 0, "second": 0}},
		{"23:59:59", map[string]interface{}{"hour": 23, "minute": 59, "second": 59}},
		{"12:00", map[string]interface{}{"hour": 12, "minute": 0}},
		{"01:24", map[string]interface{}{"hour": 1, "minute": 24}},
		{"123456", map[string]interface{}{"hour": 12, "minute": 34, "second": 56}},
		{"0124", map[string]interface{}{"hour": 1, "minute": 24}},
	}
	for _, tt := range valid {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Time(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	invalid := []string{
		"1:12", "12:2", "1:12:56", "04:42:5", "12:2:25",
		"001:12", "12:002", "001:12:56", "04:42:005", "12:005:25",
		"24:00", "25:00", "11:60", "11:62", "24:12:34", "35:12:34",
		"12:34:66", "12:34:99", "126202", "1234567", "123",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := Time(in)
			assert.Error(t, err)
		})
	}
}

func TestCoordinate(t *testing.T) {
	tests := []struct {
		format string
		in     string
		want   float64
	}{
		{"dd.dddd", "+12.1234", 12.1234},
		{"dd.dddd", " 001.3745", 1.3745},
		{"dd.dddd", "1.37", 1.37},
		{"ddmm.mm", "-3506.192", -35.1032},
		{"ddmm.mm", "03506.0", 35.1},
		{"ddd.dddddd", "+12.1234", 12.1234},
		{"dddmm.mmmm", "-3506.192", -35.1032},
		{"dddmm.mmmm", "-2431.5290", -24.5254833},
		{"dddmm.mmmm", "2431.529", 24.525483},
		{"dddmm.mmmm", "-2431.0", -24.5167},
		{"ddmm.mm", "-0030.0", -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.format+" "+tt.in, func(t *testing.T) {
			got, err := Coordinate(protocol.FieldConfig{Name: "latitude", Format: tt.format}, tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	invalid := []struct {
		format string
		in     string
	}{
		{"", "001.1234"},
		{"dd.dddd", "asdf"},
		{"ddmm.mm", "03599.1234"},
		{"ddmm.mm", "-12"},
		{"mm.dd", "12.34"},
		{"dd.dddd", "NaN"},
		{"dd.dddd", "Inf"},
		{"dd.dddd", "-Inf"},
		{"ddmm.mm", "0000." + strings.Repeat("0", 400)},
	}
	for _, tt := range invalid {
		t.Run("invalid "+tt.format+" "+tt.in, func(t *testing.T) {
			_, err := Coordinate(protocol.FieldConfig{Format: tt.format}, tt.in)
			assert.Error(t, err)
		})
	}
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg))

	fn, name, err := registry.Resolve[Func](reg, "sensors.stdtelem.time")
	require.NoError(t, err)
	assert.Equal(t, "stdtelem.time", name)

	v, err := fn(protocol.FieldConfig{}, "12:45:06")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"hour": 12, "minute": 45, "second": 6}, v)

	assert.Error(t, Register(reg), "second registration collides")
}
