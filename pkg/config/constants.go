package config

const (
	EnvPrefix = "ledger"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LEDGER_DB_DSN"
	EnvDBHost = "LEDGER_DB_HOST"
	EnvDBUser = "LEDGER_DB_USER"
	EnvDBName = "LEDGER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
