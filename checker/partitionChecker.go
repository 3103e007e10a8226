package checker

import (
	"fmt"
	"time"

	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"
	"github.com/pingcap/tidb/types"
	parserDriver "github.com/pingcap/tidb/types/parser_driver"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/tsfans/sql-partition-check/parser"
)

const (
	// 日期字面量格式
	Date_Layout = "2006-01-02"
)

var (
	// 参与分区判断的比较操作符
	Comparison_Operator_Set = map[opcode.Op]bool{
		opcode.EQ: true,
		opcode.GE: true,
		opcode.GT: true,
		opcode.LE: true,
		opcode.LT: true,
	}

	// 可识别的日期构造函数
	Date_Func_Names = map[string]bool{
		"date":              true,
		"from_iso8601_date": true,
	}
)

// 分区使用检查器，校验SQL对分区表的访问是否带有可裁剪的分区列过滤
type PartitionChecker struct {
	// 小写短表名 -> 规则
	rules     map[string]*PartitionRule
	ruleOrder []string
}

func NewPartitionChecker(rules []PartitionRule) (partitionChecker *PartitionChecker, err error) {
	partitionChecker = &PartitionChecker{rules: map[string]*PartitionRule{}}
	for idx := range rules {
		rule := rules[idx]
		shortName := rule.ShortTableName()
		if existed, ok := partitionChecker.rules[shortName]; ok {
			err = newConfigurationError(
				"duplicate short table name [%v] between rules [%v] and [%v]",
				shortName, existed.TableName, rule.TableName)
			partitionChecker = nil
			return
		}
		partitionChecker.rules[shortName] = &rule
		partitionChecker.ruleOrder = append(partitionChecker.ruleOrder, shortName)
	}
	return
}

// 检查一条SQL，返回所有使用点上的违规结果。解析失败返回单个QUERY_INVALID_SYNTAX结果。
func (checker *PartitionChecker) CheckQuery(sql string) (results []CheckResult) {
	parsed, err := parser.NewMySQLQueryParser(sql).Parse()
	if err != nil {
		results = append(results, CheckResult{
			Status:  Check_Status_Invalid_Syntax,
			Message: err.Error(),
		})
		return
	}
	query := parsed.(*parser.ParsedQuery)

	// 查询中出现过的短表名
	presentTables := map[string]bool{}
	for _, tableName := range query.TableNames() {
		presentTables[tableName.Name.L] = true
	}
	log.Debugf("tables in query=%v,registered=%v", maps.Keys(presentTables), checker.ruleOrder)

	for _, shortName := range checker.ruleOrder {
		if !presentTables[shortName] {
			continue
		}
		rule := checker.rules[shortName]
		for _, scope := range query.Selects() {
			for _, site := range parser.FromTables(scope) {
				tableName, ok := site.Source.(*ast.TableName)
				if !ok || tableName.Name.L != shortName {
					continue
				}
				if result := checker.checkUsageSite(query, scope, site, tableName.Name.O, rule); result != nil {
					results = append(results, *result)
				}
			}
		}
	}

	return
}

// 按固定顺序对单个使用点执行检查规则，首个失败的规则产生结果，全部通过返回nil
func (checker *PartitionChecker) checkUsageSite(
	query *parser.ParsedQuery,
	scope *ast.SelectStmt,
	site *ast.TableSource,
	tableName string,
	rule *PartitionRule,
) *CheckResult {
	if scope.Where == nil {
		return &CheckResult{
			Status:    Check_Status_Missing_Filter,
			Message:   fmt.Sprintf(Missing_Where_Msg, tableName, rule.ColumnName),
			TableName: tableName,
		}
	}

	conditions := collectColumnConditions(query, scope, site, rule)
	if len(conditions) == 0 {
		return &CheckResult{
			Status:    Check_Status_Missing_Filter,
			Message:   fmt.Sprintf(Missing_Filter_Msg, tableName, rule.ColumnName),
			TableName: tableName,
		}
	}

	for _, condition := range conditions {
		if hasFunctionOnColumn(condition, rule.columnNameLower()) {
			return &CheckResult{
				Status:    Check_Status_Filter_With_Function,
				Message:   fmt.Sprintf(Filter_Func_Msg, tableName, rule.ColumnName, rule.ColumnName),
				TableName: tableName,
			}
		}
	}

	if !hasFiniteRange(conditions) {
		return &CheckResult{
			Status:    Check_Status_No_Finite_Range,
			Message:   fmt.Sprintf(No_Finite_Range_Msg, tableName),
			TableName: tableName,
		}
	}

	if rule.MaxRangeDays != nil {
		if estimatedDays, ok := estimateDateRange(conditions, rule.columnNameLower()); ok && estimatedDays > *rule.MaxRangeDays {
			return &CheckResult{
				Status:        Check_Status_Excessive_Range,
				Message:       fmt.Sprintf(Excessive_Range_Msg, tableName, estimatedDays, *rule.MaxRangeDays),
				TableName:     tableName,
				EstimatedDays: &estimatedDays,
			}
		}
	}

	return nil
}

// 提取WHERE中引用目标表分区列的比较条件与BETWEEN条件，
// 嵌套子查询作用域内的条件不计入当前使用点
func collectColumnConditions(
	query *parser.ParsedQuery,
	scope *ast.SelectStmt,
	site *ast.TableSource,
	rule *PartitionRule,
) (conditions []ast.ExprNode) {
	// 当前作用域FROM中声明的表，别名优先
	scopeTables := map[string]*ast.TableSource{}
	for _, tableSource := range parser.FromTables(scope) {
		if tableSource.AsName.L != "" {
			scopeTables[tableSource.AsName.L] = tableSource
			continue
		}
		if sourceName, ok := tableSource.Source.(*ast.TableName); ok {
			scopeTables[sourceName.Name.L] = tableSource
		}
	}

	columnName := rule.columnNameLower()
	for _, node := range parser.CollectNodes(scope.Where) {
		if query.OwnerSelect(node) != scope {
			continue
		}
		switch condition := node.(type) {
		case *ast.BinaryOperationExpr:
			if Comparison_Operator_Set[condition.Op] &&
				referencesColumnOfTable(query, scope, site, scopeTables, columnName, condition) {
				conditions = append(conditions, condition)
			}
		case *ast.BetweenExpr:
			if referencesColumnOfTable(query, scope, site, scopeTables, columnName, condition) {
				conditions = append(conditions, condition)
			}
		}
	}

	return
}

// 条件是否引用了目标表实例的分区列：
// 无表限定的列默认归属当前检查的表，带限定的列必须解析到同一表实例
func referencesColumnOfTable(
	query *parser.ParsedQuery,
	scope *ast.SelectStmt,
	site *ast.TableSource,
	scopeTables map[string]*ast.TableSource,
	columnName string,
	condition ast.Node,
) bool {
	for _, node := range parser.CollectNodes(condition) {
		column, ok := node.(*ast.ColumnNameExpr)
		if !ok || column.Name.Name.L != columnName {
			continue
		}
		if query.OwnerSelect(node) != scope {
			continue
		}
		if column.Name.Table.L == "" {
			return true
		}
		if scopeTables[column.Name.Table.L] == site {
			return true
		}
	}
	return false
}

// 分区列出现在任何函数调用的参数中即判定分区失效
func hasFunctionOnColumn(condition ast.ExprNode, columnName string) bool {
	for _, node := range parser.CollectNodes(condition) {
		var args []ast.ExprNode
		switch funcNode := node.(type) {
		case *ast.FuncCallExpr:
			args = funcNode.Args
		case *ast.AggregateFuncExpr:
			args = funcNode.Args
		default:
			continue
		}
		for _, arg := range args {
			for _, argNode := range parser.CollectNodes(arg) {
				if column, ok := argNode.(*ast.ColumnNameExpr); ok && column.Name.Name.L == columnName {
					return true
				}
			}
		}
	}
	return false
}

// 有限范围：BETWEEN、等值、或同时存在上下界
func hasFiniteRange(conditions []ast.ExprNode) bool {
	var hasBetween, hasEquals, hasLowerBound, hasUpperBound bool
	for _, condition := range conditions {
		switch node := condition.(type) {
		case *ast.BetweenExpr:
			hasBetween = true
		case *ast.BinaryOperationExpr:
			switch node.Op {
			case opcode.EQ:
				hasEquals = true
			case opcode.GE, opcode.GT:
				hasLowerBound = true
			case opcode.LE, opcode.LT:
				hasUpperBound = true
			}
		}
	}
	return hasBetween || hasEquals || (hasLowerBound && hasUpperBound)
}

// 尽力估算条件覆盖的日期跨度（含两端）。
// 等值条件视为单日且优先于其它条件，其次取首个完整的BETWEEN，
// 最后按不等式累积最紧的上下界。无法解析时返回ok=false。
func estimateDateRange(conditions []ast.ExprNode, columnName string) (estimatedDays int, ok bool) {
	for _, condition := range conditions {
		binary, isBinary := condition.(*ast.BinaryOperationExpr)
		if isBinary && binary.Op == opcode.EQ {
			if _, _, found := extractComparisonDate(binary, columnName); found {
				estimatedDays, ok = 1, true
				return
			}
		}
	}

	for _, condition := range conditions {
		between, isBetween := condition.(*ast.BetweenExpr)
		if !isBetween {
			continue
		}
		low, lowOk := extractDateValue(between.Left)
		high, highOk := extractDateValue(between.Right)
		if lowOk && highOk {
			estimatedDays, ok = daysBetween(low, high), true
			return
		}
	}

	var lowerBound, upperBound *time.Time
	for _, condition := range conditions {
		binary, isBinary := condition.(*ast.BinaryOperationExpr)
		if !isBinary {
			continue
		}
		value, isLower, found := extractComparisonDate(binary, columnName)
		if !found {
			continue
		}
		if isLower {
			if lowerBound == nil || value.After(*lowerBound) {
				lowerBound = &value
			}
		} else {
			if upperBound == nil || value.Before(*upperBound) {
				upperBound = &value
			}
		}
	}
	if lowerBound != nil && upperBound != nil {
		estimatedDays, ok = daysBetween(*lowerBound, *upperBound), true
	}

	return
}

// 从比较条件中提取非列侧的日期值。列在右侧时方向取反：day >= X 与 X <= day 等价
func extractComparisonDate(condition *ast.BinaryOperationExpr, columnName string) (value time.Time, isLowerBound bool, ok bool) {
	columnOnLeft := referencesColumnByName(condition.L, columnName)
	columnOnRight := referencesColumnByName(condition.R, columnName)

	switch {
	case columnOnLeft:
		value, ok = extractDateValue(condition.R)
		isLowerBound = condition.Op == opcode.GE || condition.Op == opcode.GT
	case columnOnRight:
		value, ok = extractDateValue(condition.L)
		isLowerBound = condition.Op == opcode.LE || condition.Op == opcode.LT
	default:
		return
	}
	if !ok {
		value, isLowerBound = time.Time{}, false
	}

	return
}

func referencesColumnByName(expr ast.ExprNode, columnName string) bool {
	for _, node := range parser.CollectNodes(expr) {
		if column, ok := node.(*ast.ColumnNameExpr); ok && column.Name.Name.L == columnName {
			return true
		}
	}
	return false
}

// 仅识别两种字面量形式：YYYY-MM-DD字符串与单参数日期构造函数
func extractDateValue(expr ast.ExprNode) (value time.Time, ok bool) {
	switch node := expr.(type) {
	case *parserDriver.ValueExpr:
		if node.Datum.Kind() == types.KindString {
			value, ok = parseDateString(node.Datum.GetString())
		}
	case *ast.FuncCallExpr:
		if !Date_Func_Names[node.FnName.L] || len(node.Args) != 1 {
			return
		}
		if literal, isLiteral := node.Args[0].(*parserDriver.ValueExpr); isLiteral && literal.Datum.Kind() == types.KindString {
			value, ok = parseDateString(literal.Datum.GetString())
		}
	}
	return
}

func parseDateString(dateStr string) (value time.Time, ok bool) {
	value, err := time.Parse(Date_Layout, dateStr)
	if err != nil {
		log.Debugf("unparseable date literal [%v]", dateStr)
		return time.Time{}, false
	}
	return value, true
}

func daysBetween(low, high time.Time) int {
	return int(high.Sub(low).Hours()/24) + 1
}
