package config

const EnvPrefix = "POSTPILOT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "POSTPILOT_DB_DSN"
	EnvDBHost = "POSTPILOT_DB_HOST"
	EnvDBUser = "POSTPILOT_DB_USER"
	EnvDBName = "POSTPILOT_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
