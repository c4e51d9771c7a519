// Package browser 封装基于 chromedp 的浏览器自动化驱动。
//
// 三层模型:
//
//	Engine  — 按 (provider, account) 打开持久化浏览器 Profile
//	Session — 一个持久化 Profile 对应的浏览器实例，负责页面生命周期
//	Page    — 单个标签页：导航 / 定位 / 填充 / 点击 / 脚本执行 / 网络拦截
//
// 所有接口方法接受 context.Context；上层通过 Classify 对驱动错误分类
// （瞬时 / 会话已死 / 页面已关 / 致命），由分类结果决定重试或放弃。
package browser
