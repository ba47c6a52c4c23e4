package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("QUOTIENT_TEST_MODE") == "" {
			_ = os.Setenv("QUOTIENT_TEST_MODE", "1")
		}
	})
}
