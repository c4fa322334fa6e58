package cmn

import (
	"sync"

	"github.com/teris-io/shortid"
)

var (
	idGenOnce sync.Once
	idGen     *shortid.Shortid
)

func idGenerator() *shortid.Shortid {
	idGenOnce.Do(func() {
		idGen = shortid.MustNew(1, shortid.DefaultABC, 0xd00d)
	})
	return idGen
}

// GenID returns a short, URL-safe, collision-resistant id used for
// downloads. Segment ids are their index in the plan (see
// store.ReplaceSegments).
func GenID() string {
	id, err := idGenerator().Generate()
	AssertNoErr(err)
	return id
}
