package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("EDUCANVAS_TEST_MODE") == "" {
			_ = os.Setenv("EDUCANVAS_TEST_MODE", "1")
		}
	})
}
