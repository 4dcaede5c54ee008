package memory

import "time"

// nowFunc is a seam so tests can freeze time when asserting on CreatedAt.
var nowFunc = time.Now
