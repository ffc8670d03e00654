package ffmpeg

import (
	"os"
	"testing"

	"github.com/gwlsn/remuxer/internal/fftest"
)

func TestMain(m *testing.M) {
	fftest.Run()
	os.Exit(m.Run())
}
