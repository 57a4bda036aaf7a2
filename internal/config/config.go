// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure.
type Config struct {
	RTU   *RTUConfig   `mapstructure:"rtu"`
	TCP   *TCPConfig   `mapstructure:"tcp"`
	Polls []PollConfig `mapstructure:"polls"`

	// Snapshot is the path of the last-known-value image, empty for
	// memory only.
	Snapshot string `mapstructure:"snapshot"`

	// TickInterval is the engine scheduling period.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// RTUConfig defines the serial master.
type RTUConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	PDUSize   int `mapstructure:"pdu_size"`
	QueueSize int `mapstructure:"queue_size"`

	// Direct timeout overrides; zero derives from the line parameters.
	FrameTimeout    time.Duration `mapstructure:"frame_timeout"`
	ByteTimeout     time.Duration `mapstructure:"byte_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// TCPConfig defines the TCP client engine.
type TCPConfig struct {
	PDUSize         int             `mapstructure:"pdu_size"`
	ADUPoolSize     int             `mapstructure:"adu_pool_size"`
	ClientCount     int             `mapstructure:"client_count"`
	ResponseTimeout time.Duration   `mapstructure:"response_timeout"`
	Slaves          []TCPSlaveConfig `mapstructure:"slaves"`
}

// TCPSlaveConfig defines one slave connection.
type TCPSlaveConfig struct {
	ID                uint8         `mapstructure:"id"`
	Address           string        `mapstructure:"address"` // e.g. "192.168.1.100:502"
	QueueSize         int           `mapstructure:"queue_size"`
	KeepAlive         bool          `mapstructure:"keep_alive"`
	AllAtOnce         bool          `mapstructure:"all_at_once"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// PollConfig defines one cyclic poll job.
type PollConfig struct {
	Transport string `mapstructure:"transport"` // "rtu" or "tcp"
	Function  string `mapstructure:"function"`  // "coils", "discrete", "holding", "input"
	SlaveIDs  string `mapstructure:"slave_ids"` // "1", "1,2", "1-10"
	Address   uint16 `mapstructure:"address"`
	Count     uint16 `mapstructure:"count"`

	// Spacing between consecutive slaves and between full cycles.
	SlaveSetDelay       time.Duration `mapstructure:"slave_set_delay"`
	SlaveSetRepeatDelay time.Duration `mapstructure:"slave_set_repeat_delay"`
}

// LoadConfig loads configuration from the command line and config file.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("tick_interval", time.Millisecond)
	v.SetDefault("log.level", "info")

	pflag.StringP("config", "c", "", "Configuration file path.")
	pflag.StringP("snapshot", "s", "", "Last-known-value snapshot file ('' for memory only).")
	pflag.DurationP("tick_interval", "t", time.Millisecond, "Engine scheduling period.")
	pflag.StringP("log.level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	pflag.StringP("log.file", "L", "", "Log file name ('' for STDOUT).")
	pflag.Parse()

	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("failed to bind pflags: %w", err)
	}

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusmaster/")
		v.AddConfigPath("$HOME/.modbusmaster")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.RTU != nil {
		fixupSerial(config.RTU)
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Millisecond
	}

	return &config, nil
}

func fixupSerial(s *RTUConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 19200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
}

// ParseSlaveIDs parses a string of slave IDs (e.g. "1,2,5-10") into a
// slice of bytes.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start < 0 || end > 255 || start > end {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			for i := start; i <= end; i++ {
				ids = append(ids, byte(i))
			}
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid slave id: %w", err)
		}
		if id < 0 || id > 255 {
			return nil, fmt.Errorf("slave id out of range: %d", id)
		}
		ids = append(ids, byte(id))
	}
	return ids, nil
}
