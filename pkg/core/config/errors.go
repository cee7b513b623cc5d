package config

import (
	"fmt"

	coreerrors "github.com/easyops/contextinject-go/pkg/core/errors"
)

// ErrUnsupportedFormat 配置文件格式不受支持
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported config file format", coreerrors.ErrInvalidConfig)
