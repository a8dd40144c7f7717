package s3

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorage_ObjectKey(t *testing.T) {
	s := &Storage{prefix: "uploads"}

	assert.Equal(t, "uploads/0190a1b2-c3d4", s.objectKey("0190a1b2-c3d4"))
	assert.Equal(t, "uploads/passwd", s.objectKey("../../etc/passwd"))
}

func TestStorage_Uninitialized(t *testing.T) {
	var s *Storage

	_, err := s.Write(context.Background(), "k", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = s.Read(context.Background(), "k")
	assert.Error(t, err)
}
