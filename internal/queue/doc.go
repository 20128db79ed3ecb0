// Package queue holds the durable job backends. The redis subpackage owns
// persistence, retry and redelivery in Redis; the memory subpackage offers the
// same contract in-process for development and tests.
package queue
