package config

import "time"

const (
	apiBaseURLVar      = "API_BASE_URL"
	apiTimeoutVar      = "API_TIMEOUT"
	storeFolderVar     = "STORE_FOLDER"
	storePassphraseVar = "STORE_PASSPHRASE"
)

type API struct {
	src source
}

var _ APIConfig = API{}

func (a API) GetAPIBaseURL() string {
	return a.src.get(apiBaseURLVar, "http://localhost:8081/api")
}

func (a API) GetAPITimeout() time.Duration {
	return a.src.getDuration(apiTimeoutVar, 15*time.Second)
}

type Store struct {
	src source
}

var _ StoreConfig = Store{}

// GetStoreFolder returns the directory of the encrypted credential store.
// An empty value keeps credentials in memory only.
func (s Store) GetStoreFolder() string {
	return s.src.get(storeFolderVar, "./data/credentials")
}

func (s Store) GetStorePassphrase() string {
	return s.src.get(storePassphraseVar, "")
}
