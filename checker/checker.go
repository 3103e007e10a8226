package checker

import (
	"fmt"
	"strings"
)

// 分区检查状态
type CheckStatus string

const (
	Check_Status_Invalid_Syntax       CheckStatus = "QUERY_INVALID_SYNTAX"
	Check_Status_Missing_Filter       CheckStatus = "MISSING_FILTER"
	Check_Status_Filter_With_Function CheckStatus = "FILTER_WITH_FUNCTION"
	Check_Status_No_Finite_Range      CheckStatus = "NO_FINITE_RANGE"
	Check_Status_Excessive_Range      CheckStatus = "EXCESSIVE_RANGE"
)

var (
	Missing_Where_Msg   = "Table '%v' is used without a WHERE clause containing a '%v' filter"
	Missing_Filter_Msg  = "Table '%v' is used without a '%v' column filter in WHERE clause"
	Filter_Func_Msg     = "Table '%v' uses '%v' column with a function, which disables partitioning. Use raw '%v' column in comparisons."
	No_Finite_Range_Msg = "Table '%v' does not have a finite date range. Use BETWEEN or combination of >= and <= operators."
	Excessive_Range_Msg = "Table '%v' has an excessive date range of approximately %v days (max: %v)"
)

// 分区规则：声明某张表必须按指定分区列过滤
type PartitionRule struct {
	// 表名，可带catalog/schema限定
	TableName string
	// 分区列名
	ColumnName string
	// 分区列的日期格式，仅作说明用
	DatePattern string
	// 允许的最大日期跨度（天），nil表示不限制
	MaxRangeDays *int
}

// 表名最后一段的小写形式，用于匹配查询中的表
func (rule PartitionRule) ShortTableName() string {
	name := rule.TableName
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.ToLower(name)
}

func (rule PartitionRule) columnNameLower() string {
	return strings.ToLower(rule.ColumnName)
}

// 单个使用点的检查结果
type CheckResult struct {
	Status        CheckStatus
	Message       string
	TableName     string
	EstimatedDays *int
}

// 规则配置错误，构造检查器时立即返回
type ConfigurationError struct {
	msg string
}

func (err *ConfigurationError) Error() string {
	return err.msg
}

func newConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// 一次性构造检查器并执行检查
func CheckPartitionUsage(sql string, rules []PartitionRule) (results []CheckResult, err error) {
	partitionChecker, err := NewPartitionChecker(rules)
	if err != nil {
		return
	}
	results = partitionChecker.CheckQuery(sql)
	return
}
