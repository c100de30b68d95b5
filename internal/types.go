package internal

import (
	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/services/cache"
	"sjsage522/marketworker/services/publisher"
)

// Dependencies holds the optional services shared by the pipeline. Nil
// members disable the feature they back.
type Dependencies struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Reporter  helpers.Reporter
}
