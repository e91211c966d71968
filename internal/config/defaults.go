package config

const (
	defaultStateDir        = "~/.local/share/discnorm"
	defaultLogDir          = "~/.local/share/discnorm/logs"
	defaultLogRetentionDay = 30
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultChdman          = "chdman"
	defaultSevenZip        = "7z"
	defaultUnrar           = "unrar"
	defaultUnecm           = "unecm"
	defaultMdf2Iso         = "mdf2iso"
	defaultPowerISO        = "poweriso"
	defaultArchiveTimeout  = 300
	defaultCompressTimeout = 3600
	defaultSettleSeconds   = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempDir:  defaultTempDir(),
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Tools: Tools{
			Chdman:          defaultChdman,
			SevenZip:        defaultSevenZip,
			Unrar:           defaultUnrar,
			Unecm:           defaultUnecm,
			Mdf2Iso:         defaultMdf2Iso,
			PowerISO:        defaultPowerISO,
			ArchiveTimeout:  defaultArchiveTimeout,
			CompressTimeout: defaultCompressTimeout,
			NativeArchives:  true,
		},
		Verify: Verify{
			AllowCueMismatches: true,
			WriteMetadata:      true,
		},
		History: History{
			Enabled: true,
		},
		Watch: Watch{
			SettleSeconds: defaultSettleSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDay,
		},
	}
}
