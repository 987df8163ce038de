package httpapi

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}

func errString(msg string) error {
	return errors.New(msg)
}
