package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供内容接口的公共字段，key 为空时不输出。
func RequestFields(action, key, clientIP, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"action":     action,
		"client_ip":  clientIP,
		"request_id": requestID,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}
