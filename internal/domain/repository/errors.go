package repository

import "errors"

// Ошибки хранилища, общие для sql-реализации и тестовых подделок.
var (
	ErrNotFound  = errors.New("entity not found")
	ErrDuplicate = errors.New("entity already exists")
)
