package config

// Default names for device mounts and on-disk files
const (
	// DefaultDeviceLabel is the volume label Kobo readers mount under
	DefaultDeviceLabel = "KOBOeReader"

	// DefaultDeviceDatabasePath is where the firmware keeps its content
	// database, relative to the device mount point
	DefaultDeviceDatabasePath = ".kobo/KoboReader.sqlite"

	// DefaultSDCardLabel is the serial-style label FAT cards mount under
	DefaultSDCardLabel = "23E1-32E8"

	// ConfigFileName is the basename of the on-disk configuration file
	ConfigFileName = "kobomanager.yaml"

	// LibraryDatabaseName is the catalog file kept in the config directory
	LibraryDatabaseName = "kobomanager.sqlite"
)
