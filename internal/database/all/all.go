// Package all registers every storage backend with the engine.
package all

import (
	_ "github.com/JonMunkholm/tableload/internal/database/mssql"
	_ "github.com/JonMunkholm/tableload/internal/database/mysql"
	_ "github.com/JonMunkholm/tableload/internal/database/postgres"
	_ "github.com/JonMunkholm/tableload/internal/database/sqlite"
)
