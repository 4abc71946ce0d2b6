package utils

import (
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

var (
	sourceDir     string
	gormSourceDir = "gorm.io/"
)

func init() {
	_, file, _, _ := runtime.Caller(0)
	// utils/utils.go lives one level below the module root
	sourceDir = filepath.ToSlash(filepath.Dir(filepath.Dir(file))) + "/"
}

// FileWithLineNum return the file name and line number of the first caller outside relativity and gorm
func FileWithLineNum() string {
	for i := 2; i < 20; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.HasSuffix(file, "_test.go") ||
			(!strings.HasPrefix(file, sourceDir) && !strings.Contains(file, gormSourceDir)) {
			return file + ":" + strconv.FormatInt(int64(line), 10)
		}
	}

	return ""
}

// CheckTruth check string true or not
func CheckTruth(vals ...string) bool {
	for _, val := range vals {
		if val != "" && !strings.EqualFold(val, "false") {
			return true
		}
	}
	return false
}

// ToStringKey joins the string forms of values, used to match prefetched rows with their instances
func ToStringKey(values ...interface{}) string {
	results := make([]string, len(values))

	for idx, value := range values {
		if valuer, ok := value.(driver.Valuer); ok {
			value, _ = valuer.Value()
		}

		switch v := value.(type) {
		case nil:
		case string:
			results[idx] = v
		case []byte:
			results[idx] = string(v)
		case uint:
			results[idx] = strconv.FormatUint(uint64(v), 10)
		default:
			rv := reflect.Indirect(reflect.ValueOf(v))
			if rv.IsValid() {
				results[idx] = fmt.Sprint(rv.Interface())
			}
		}
	}

	return strings.Join(results, "_")
}
