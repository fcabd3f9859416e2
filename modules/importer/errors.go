package importer

import "errors"

var errNoPool = errors.New("importer module needs a database pool")
