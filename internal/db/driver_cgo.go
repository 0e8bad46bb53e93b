//go:build cgo && sqlite3_cgo

package db

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverID names the sqlite implementation compiled in.
const DriverID = "mattn/go-sqlite3"

const driverName = "sqlite3"
