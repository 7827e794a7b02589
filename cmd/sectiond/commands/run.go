package commands

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"

	"github.com/rifflock/lfshook"
	"github.com/sectionnet/routing/src/agreement"
	"github.com/sectionnet/routing/src/chain"
	"github.com/sectionnet/routing/src/crypto"
	"github.com/sectionnet/routing/src/crypto/keys"
	"github.com/sectionnet/routing/src/dkg"
	"github.com/sectionnet/routing/src/net"
	"github.com/sectionnet/routing/src/node"
	"github.com/sectionnet/routing/src/store"
	"github.com/sectionnet/routing/src/xor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a section node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runSectiond,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runSectiond(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	key, err := keys.NewSimpleKeyfile(_config.Keyfile()).ReadKey()
	if err != nil {
		return fmt.Errorf("reading private key from %s: %s", _config.Keyfile(), err)
	}
	_config.Key = key
	ourName := keys.PublicKeyName(&key.PublicKey)

	genesis, err := readGenesis(_config.GenesisFile())
	if err != nil {
		return fmt.Errorf("reading genesis bundle from %s: %s", _config.GenesisFile(), err)
	}

	var db store.Store
	if _config.Store {
		dbStore, err := store.LoadOrCreateBadgerStore(_config.CacheSize, _config.DatabaseDir)
		if err != nil {
			return fmt.Errorf("opening database %s: %s", _config.DatabaseDir, err)
		}
		db = dbStore
	} else {
		db = store.NewInmemStore(_config.CacheSize)
	}

	trans, err := net.NewTCPTransport(
		_config.BindAddr,
		_config.AdvertiseAddr,
		_config.MaxPool,
		_config.TCPTimeout,
		_config.BootstrapTimeout,
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating TCP transport: %s", err)
	}

	engine := agreement.NewInmemEngine(genesis.AgreementVersion)

	var n *node.Node
	if genesis.FirstInfo.IsMember(ourName) {
		share, err := genesisShare(genesis, ourName)
		if err != nil {
			return err
		}
		n, err = node.NewNode(_config, genesis, share, engine, trans, db)
		if err != nil {
			return err
		}
	} else {
		n, err = node.NewJoiningNode(_config, genesis.FirstKeyInfo(), nil, engine, trans, db)
		if err != nil {
			return err
		}
		if err := n.Bootstrap(); err != nil {
			return err
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Interrupt; shutting down")
		n.Shutdown()
	}()

	n.Run()

	return nil
}

// readGenesis loads the genesis section bundle from disk.
func readGenesis(file string) (*chain.GenesisPfxInfo, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	genesis := new(chain.GenesisPfxInfo)
	if err := genesis.Unmarshal(data); err != nil {
		return nil, err
	}
	return genesis, nil
}

// genesisShare recomputes this founder's share of the genesis section key.
// The genesis key is derived deterministically from the founding member set,
// so each founder can rebuild its own share locally instead of shipping key
// material in the genesis file.
func genesisShare(genesis *chain.GenesisPfxInfo, ourName xor.Name) (*crypto.SecretKeyShare, error) {
	names := genesis.FirstInfo.MemberNames()

	res, err := dkg.NewInProcRunner().GetDkgResult(names, ourName, chain.QuorumCount(len(names)))
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(res.PublicKeys.PublicKey(), genesis.FirstKeyInfo().Key) {
		return nil, fmt.Errorf("derived genesis key does not match the genesis file")
	}

	return res.Share, nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the section node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the section node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("bootstrap-timeout", "b", _config.BootstrapTimeout, "Bootstrap Timeout")
	cmd.Flags().Duration("gossip-timeout", _config.GossipTimeout, "Time between gossips")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().StringSlice("contacts", _config.Contacts, "Addresses to bootstrap from")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	addLogFileHooks(_config.Logger().Logger)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"MaxPool":          _config.MaxPool,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
		"BootstrapTimeout": _config.BootstrapTimeout,
		"GossipTimeout":    _config.GossipTimeout,
		"TCPTimeout":       _config.TCPTimeout,
		"CacheSize":        _config.CacheSize,
		"Contacts":         _config.Contacts,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all
	// other persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/sectiond.toml (.json, .yaml also work)
	viper.SetConfigName("sectiond")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogFileHooks copies info and debug lines to files alongside the console
// output.
func addLogFileHooks(logger *logrus.Logger) {
	pathMap := lfshook.PathMap{}

	if _, err := os.OpenFile("sectiond_info.log", os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open sectiond_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "sectiond_info.log"
	}

	if _, err := os.OpenFile("sectiond_debug.log", os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open sectiond_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "sectiond_debug.log"
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
