package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsfans/sql-partition-check/checker"
)

// 分区规则配置文件
type RuleConfig struct {
	Rules []RuleEntry `yaml:"rules"`
}

type RuleEntry struct {
	Table        string `yaml:"table"`
	Column       string `yaml:"column"`
	DatePattern  string `yaml:"datePattern,omitempty"`
	MaxRangeDays *int   `yaml:"maxRangeDays,omitempty"`
}

func LoadRules(path string) (rules []checker.PartitionRule, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read rule config failed,err=[%v],path=[%v]", err.Error(), path)
		return
	}

	var config RuleConfig
	if err = yaml.Unmarshal(data, &config); err != nil {
		err = fmt.Errorf("parse rule config failed,err=[%v],path=[%v]", err.Error(), path)
		return
	}
	if len(config.Rules) == 0 {
		err = fmt.Errorf("no partition rules in config,path=[%v]", path)
		return
	}

	for _, entry := range config.Rules {
		if entry.Table == "" || entry.Column == "" {
			err = fmt.Errorf("rule must declare table and column,table=[%v],column=[%v]", entry.Table, entry.Column)
			return
		}
		rules = append(rules, checker.PartitionRule{
			TableName:    entry.Table,
			ColumnName:   entry.Column,
			DatePattern:  entry.DatePattern,
			MaxRangeDays: entry.MaxRangeDays,
		})
	}

	return
}
