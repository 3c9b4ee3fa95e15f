// Copyright (c) Standforge Authors.
// Licensed under the MIT License.

/*
Package jsonextract 从模型的自由文本输出中提取第一个可解析的 JSON 对象。

模型经常在 JSON 前后附带说明文字、Markdown 代码围栏或多余的花括号。
提取按以下顺序进行：

 1. 取第一个 '{' 到最后一个 '}' 之间的内容直接解析；
 2. 失败则做花括号深度扫描，每当深度回到 0 就尝试解析该平衡片段，
    扫描会跳过 JSON 字符串字面量中的花括号与转义引号；
 3. 全部失败返回 PARSE_ERROR，Raw 字段携带原始文本。

只有 JSON 对象会被接受，数组和标量一律拒绝。
*/
package jsonextract
