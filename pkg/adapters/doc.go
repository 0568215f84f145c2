/*
Package adapters определяет контракт реляционного backend, на котором живет
хранилище транзакций процессов.

# Архитектура

	┌─────────────────────────────────────────┐
	│    pkg/store (Transaction Store)        │
	│  - CreateOrEvolve / ImportData          │
	│  - CastDataTypeForColumns               │
	└─────────────────┬───────────────────────┘
	                  │
	┌─────────────────▼───────────────────────┐
	│  Backend + Tx + Dialect                 │  ← pkg/adapters
	│                                         │
	│  Exec / Query → Frame / InsertRows      │
	│  Savepoint / RollbackTo / Release       │
	│  CreateTable / CreatePartition / ...    │
	└─────────────────┬───────────────────────┘
	                  │
	        ┌─────────┴─────────┐
	┌───────▼────┐       ┌──────▼─────┐
	│ SQLite     │       │ PostgreSQL │
	│ (modernc)  │       │ (pgx/v5)   │
	└────────────┘       └────────────┘

# Регистрация

Каждая реализация регистрирует себя в глобальной фабрике в init():

	import _ "github.com/ruslano69/bridgestation/pkg/adapters/postgres"

	backend, err := adapters.New(ctx, adapters.Config{Type: "postgres", DSN: dsn})

# Значения

Query возвращает frame.Frame, значения которого нормализованы к int64,
float64, string, bool, time.Time (UTC), []byte или nil. Приведение к
логическому типу колонки выполняет вызывающий код (schema.Coerce).

# DDL-конфликты

Dialect.IsAlreadyExists распознает ошибки "объект уже существует". Хранилище
оборачивает каждую DDL-операцию в точку сохранения (InSavepoint) и трактует
такие ошибки как уже выполненную операцию.
*/
package adapters
