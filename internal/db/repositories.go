package db

// Repositories provides access to all database repositories
type Repositories struct {
	Stations *StationRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Stations: NewStationRepository(db),
	}
}
