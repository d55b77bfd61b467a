package config

type Store struct {
	s *settings
}

var _ StoreConfig = Store{}

// GetSessionStore returns memory, redis or postgres.
func (c Store) GetSessionStore() string {
	return c.s.SessionStore
}

func (c Store) GetRedisAddr() string {
	return c.s.RedisAddr
}

func (c Store) GetRedisPassword() string {
	return c.s.RedisPassword
}

func (c Store) GetRedisDB() int {
	return c.s.RedisDB
}

func (c Store) GetRedisKeyPrefix() string {
	return c.s.RedisKeyPrefix
}

func (c Store) GetDatabaseURL() string {
	return c.s.DatabaseURL
}
