// Package all links every storage backend.
package all

import (
	_ "titlesearch/internal/storage/mssql"
	_ "titlesearch/internal/storage/postgres"
	_ "titlesearch/internal/storage/sqlite"
)
