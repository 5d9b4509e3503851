package optimizer

import (
	"fmt"
	"regexp"
)

// ValidationError reports a rejected optimization parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// modelIDPattern accepts a bare model name or an org/name pair, each made of
// word characters, dots and dashes ("bert-base-uncased", "org/model-v2.1").
var modelIDPattern = regexp.MustCompile(`^[\w.-]+(/[\w.-]+)?$`)

var knownBackends = map[string]bool{
	"auto":              true,
	"onnx":              true,
	"openvino":          true,
	"bettertransformer": true,
}

const (
	minBatchSize = 1
	maxBatchSize = 128
	minSeqLength = 1
	maxSeqLength = 4096
)

// ValidateModelID checks the source model identifier shape.
func ValidateModelID(id string) error {
	if id == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if !modelIDPattern.MatchString(id) {
		return &ValidationError{Field: "model", Reason: fmt.Sprintf("%q is not a valid model identifier", id)}
	}
	return nil
}

// ValidateBackend checks the backend name against the supported set.
func ValidateBackend(name string) error {
	if !knownBackends[name] {
		return &ValidationError{Field: "backend", Reason: fmt.Sprintf("%q is not one of auto, onnx, openvino, bettertransformer", name)}
	}
	return nil
}

// ValidateBatchSize checks the batch size range.
func ValidateBatchSize(n int) error {
	if n < minBatchSize || n > maxBatchSize {
		return &ValidationError{Field: "batch_size", Reason: fmt.Sprintf("%d is outside [%d, %d]", n, minBatchSize, maxBatchSize)}
	}
	return nil
}

// ValidateSequenceLength checks the sequence length range.
func ValidateSequenceLength(n int) error {
	if n < minSeqLength || n > maxSeqLength {
		return &ValidationError{Field: "sequence_length", Reason: fmt.Sprintf("%d is outside [%d, %d]", n, minSeqLength, maxSeqLength)}
	}
	return nil
}

// ValidateQuantizationBits checks the bit width. Only 4, 8 and 16 bit
// quantization schemes are meaningful to the backends.
func ValidateQuantizationBits(bits int) error {
	switch bits {
	case 4, 8, 16:
		return nil
	}
	return &ValidationError{Field: "quantization_bits", Reason: fmt.Sprintf("%d is not one of 4, 8, 16", bits)}
}
