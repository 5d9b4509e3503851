package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateModelID(t *testing.T) {
	valid := []string{"bert-base-uncased", "gpt2", "org/model", "org-name/model_v2", "m.2"}
	for _, id := range valid {
		require.NoError(t, ValidateModelID(id), "id %q", id)
	}

	invalid := []string{"", "a/b/c", "a b", "org/", "/model", "a:b"}
	for _, id := range invalid {
		err := ValidateModelID(id)
		require.Error(t, err, "id %q", id)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "model", verr.Field)
	}
}

func TestValidateBackend(t *testing.T) {
	for _, name := range []string{"auto", "onnx", "openvino", "bettertransformer"} {
		require.NoError(t, ValidateBackend(name))
	}
	require.Error(t, ValidateBackend("tensorrt"))
	require.Error(t, ValidateBackend(""))
}

func TestValidateBatchSize(t *testing.T) {
	require.NoError(t, ValidateBatchSize(1))
	require.NoError(t, ValidateBatchSize(128))
	require.Error(t, ValidateBatchSize(0))
	require.Error(t, ValidateBatchSize(129))
	require.Error(t, ValidateBatchSize(-1))
}

func TestValidateSequenceLength(t *testing.T) {
	require.NoError(t, ValidateSequenceLength(1))
	require.NoError(t, ValidateSequenceLength(4096))
	require.Error(t, ValidateSequenceLength(0))
	require.Error(t, ValidateSequenceLength(4097))
}

func TestValidateQuantizationBits(t *testing.T) {
	for _, bits := range []int{4, 8, 16} {
		require.NoError(t, ValidateQuantizationBits(bits))
	}
	for _, bits := range []int{0, 1, 2, 32} {
		require.Error(t, ValidateQuantizationBits(bits))
	}
}

func TestParams_Validate(t *testing.T) {
	good := Params{
		ModelID:        "bert-base-uncased",
		Backend:        "onnx",
		BatchSize:      1,
		SequenceLength: 128,
	}
	require.NoError(t, good.Validate())

	// Quantization bits are only checked when quantization is on.
	good.QuantizationBits = 3
	require.NoError(t, good.Validate())
	good.Quantize = true
	require.Error(t, good.Validate())
	good.QuantizationBits = 8
	require.NoError(t, good.Validate())

	bad := good
	bad.Backend = "mystery"
	require.Error(t, bad.Validate())
}
